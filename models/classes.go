package models

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet ties a style to its full list of labels.
type OutputClassSet struct {
	// Class set identifier.
	Style ModelFamily
	// Classes that are supported and mappable.
	Classes []OutputClass
}

// Names returns the labels of the set ordered by index.
func (s OutputClassSet) Names() []string {
	names := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		names[i] = c.Name
	}
	return names
}

// ClassRegistry maps model class ids to display names.
//
// The registry is loaded once per session and is read-only afterwards, so it is safe for
// concurrent lookups.
type ClassRegistry struct {
	names     []string
	nameToIdx map[string]int
}

// NewClassRegistry builds a registry where names[i] is the label of class id i.
func NewClassRegistry(names []string) *ClassRegistry {
	r := &ClassRegistry{
		names:     append([]string(nil), names...),
		nameToIdx: make(map[string]int, len(names)),
	}
	for i, name := range r.names {
		if _, ok := r.nameToIdx[name]; !ok {
			r.nameToIdx[name] = i
		}
	}
	return r
}

// DefaultClassRegistry returns the 80 COCO labels in YOLO (zero-based) order.
func DefaultClassRegistry() *ClassRegistry {
	return NewClassRegistry(YOLOClasses.Names())
}

// Lookup returns the label for a class id, or unknown_<id> if the id has no label.
func (r *ClassRegistry) Lookup(classID int) string {
	if classID < 0 || classID >= len(r.names) || r.names[classID] == "" {
		return fmt.Sprintf("unknown_%d", classID)
	}
	return r.names[classID]
}

// Index returns the class id for a label.
func (r *ClassRegistry) Index(name string) (int, bool) {
	idx, ok := r.nameToIdx[name]
	return idx, ok
}

// Len returns the number of labelled classes.
func (r *ClassRegistry) Len() int {
	return len(r.names)
}

// classFile is the mapping form of a class names file.
type classFile struct {
	Names []string `json:"names" yaml:"names"`
}

// indexedClassFile is the ultralytics dataset form, names keyed by class id.
type indexedClassFile struct {
	Names map[int]string `json:"names" yaml:"names"`
}

// LoadClassRegistry reads class names from a file.
//
// Supported formats, chosen by extension:
//   - .yaml/.yml: a list of names, or a mapping with a "names" list or id->name map.
//   - .json: the same shapes as YAML.
//   - anything else: one name per line, blank lines ignored.
//
// Arguments:
//   - path: The class names file.
//
// Returns:
//   - *ClassRegistry: The loaded registry.
//   - error: An error if the file cannot be read or holds no names.
func LoadClassRegistry(path string) (*ClassRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read class names %q", path)
	}

	var names []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		names, err = decodeNames(raw, yaml.Unmarshal)
	case ".json":
		names, err = decodeNames(raw, json.Unmarshal)
	default:
		names, err = scanNames(string(raw))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse class names %q", path)
	}
	if len(names) == 0 {
		return nil, errors.Errorf("class names file %q is empty", path)
	}

	return NewClassRegistry(names), nil
}

func decodeNames(raw []byte, unmarshal func([]byte, interface{}) error) ([]string, error) {
	var list []string
	if err := unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var file classFile
	if err := unmarshal(raw, &file); err == nil {
		return file.Names, nil
	}

	var indexed indexedClassFile
	if err := unmarshal(raw, &indexed); err != nil {
		return nil, err
	}
	size := 0
	for id := range indexed.Names {
		if id < 0 {
			return nil, errors.Errorf("negative class id %d", id)
		}
		size = max(size, id+1)
	}
	names := make([]string, size)
	for id, name := range indexed.Names {
		names[id] = name
	}
	return names, nil
}

func scanNames(raw string) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	return names, scanner.Err()
}

// COCOClasses is the full 80 COCO classes plus "__background__" at index 0.
var COCOClasses = OutputClassSet{
	Style: ModelFamilyCOCO,
	Classes: []OutputClass{
		{0, "__background__"},
		{1, "person"},
		{2, "bicycle"},
		{3, "car"},
		{4, "motorcycle"},
		{5, "airplane"},
		{6, "bus"},
		{7, "train"},
		{8, "truck"},
		{9, "boat"},
		{10, "traffic light"},
		{11, "fire hydrant"},
		{12, "stop sign"},
		{13, "parking meter"},
		{14, "bench"},
		{15, "bird"},
		{16, "cat"},
		{17, "dog"},
		{18, "horse"},
		{19, "sheep"},
		{20, "cow"},
		{21, "elephant"},
		{22, "bear"},
		{23, "zebra"},
		{24, "giraffe"},
		{25, "backpack"},
		{26, "umbrella"},
		{27, "handbag"},
		{28, "tie"},
		{29, "suitcase"},
		{30, "frisbee"},
		{31, "skis"},
		{32, "snowboard"},
		{33, "sports ball"},
		{34, "kite"},
		{35, "baseball bat"},
		{36, "baseball glove"},
		{37, "skateboard"},
		{38, "surfboard"},
		{39, "tennis racket"},
		{40, "bottle"},
		{41, "wine glass"},
		{42, "cup"},
		{43, "fork"},
		{44, "knife"},
		{45, "spoon"},
		{46, "bowl"},
		{47, "banana"},
		{48, "apple"},
		{49, "sandwich"},
		{50, "orange"},
		{51, "broccoli"},
		{52, "carrot"},
		{53, "hot dog"},
		{54, "pizza"},
		{55, "donut"},
		{56, "cake"},
		{57, "chair"},
		{58, "couch"},
		{59, "potted plant"},
		{60, "bed"},
		{61, "dining table"},
		{62, "toilet"},
		{63, "tv"},
		{64, "laptop"},
		{65, "mouse"},
		{66, "remote"},
		{67, "keyboard"},
		{68, "cell phone"},
		{69, "microwave"},
		{70, "oven"},
		{71, "toaster"},
		{72, "sink"},
		{73, "refrigerator"},
		{74, "book"},
		{75, "clock"},
		{76, "vase"},
		{77, "scissors"},
		{78, "teddy bear"},
		{79, "hair drier"},
		{80, "toothbrush"},
	},
}

// YOLOClasses is the 80 COCO classes (no background).
// YOLO models index directly into this zero-based list.
var YOLOClasses = OutputClassSet{
	Style: ModelFamilyYOLO,
	Classes: func() []OutputClass {
		classes := make([]OutputClass, len(COCOClasses.Classes)-1) // drop background
		for i := 1; i < len(COCOClasses.Classes); i++ {
			classes[i-1] = OutputClass{i - 1, COCOClasses.Classes[i].Name}
		}
		return classes
	}(),
}

// TFCOCOClasses mirrors TensorFlow’s default COCO labelmap (80 + background).
// Use these indices when running TF-exported models in ONNX Runtime GO.
var TFCOCOClasses = OutputClassSet{
	Style:   ModelFamilyTF,
	Classes: COCOClasses.Classes, // identical names & indices
}

// PascalVOCClasses is the 20 Pascal VOC classes + "__background__" at index 0.
var PascalVOCClasses = OutputClassSet{
	Style: ModelFamilyVOC,
	Classes: []OutputClass{
		{0, "__background__"},
		{1, "aeroplane"},
		{2, "bicycle"},
		{3, "bird"},
		{4, "boat"},
		{5, "bottle"},
		{6, "bus"},
		{7, "car"},
		{8, "cat"},
		{9, "chair"},
		{10, "cow"},
		{11, "diningtable"},
		{12, "dog"},
		{13, "horse"},
		{14, "motorbike"},
		{15, "person"},
		{16, "pottedplant"},
		{17, "sheep"},
		{18, "sofa"},
		{19, "train"},
		{20, "tvmonitor"},
	},
}

// AllClassSets collects every OutputClassSet in one place.
// Helps you iterate across all supported label mappings.
var AllClassSets = []OutputClassSet{
	COCOClasses,
	YOLOClasses,
	TFCOCOClasses,
	PascalVOCClasses,
}

// ClassSet returns the built-in label set of a model family.
func ClassSet(style ModelFamily) (OutputClassSet, bool) {
	for _, set := range AllClassSets {
		if set.Style == style {
			return set, true
		}
	}
	return OutputClassSet{}, false
}
