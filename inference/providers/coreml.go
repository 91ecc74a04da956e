package providers

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML provider flags.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
const (
	// CoreMLUseCPUOnly limits CoreML to running on CPU only.
	CoreMLUseCPUOnly uint32 = 0x001
	// CoreMLEnableOnSubgraph enables CoreML on subgraphs of control flow operators.
	CoreMLEnableOnSubgraph uint32 = 0x002
	// CoreMLOnlyEnableDeviceWithANE only enables CoreML on devices with an Apple Neural Engine.
	CoreMLOnlyEnableDeviceWithANE uint32 = 0x004
	// CoreMLOnlyAllowStaticInputShapes only takes nodes whose inputs have static shapes.
	CoreMLOnlyAllowStaticInputShapes uint32 = 0x008
	// CoreMLCreateMLProgram creates an MLProgram format model (Core ML 5+).
	CoreMLCreateMLProgram uint32 = 0x010
)

// CoreMLOptions contains arguments for the CoreML provider.
type CoreMLOptions struct {
	// Flags is a bitwise OR of the CoreML* flag constants.
	Flags uint32 `json:"flags" yaml:"flags"`
}
