// Package models - Class label sets and the registry that names detections.
package models

// ModelFamily is the family of models.
type ModelFamily string

const (
	// ModelFamilyCOCO is the COCO model family.
	ModelFamilyCOCO ModelFamily = "coco"
	// ModelFamilyYOLO is the YOLO model family.
	ModelFamilyYOLO ModelFamily = "yolo"
	// ModelFamilyTF is the TensorFlow model family.
	ModelFamilyTF ModelFamily = "tf"
	// ModelFamilyVOC is the Pascal VOC model family.
	ModelFamilyVOC ModelFamily = "voc"
)
