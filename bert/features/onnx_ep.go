package features

import "strings"

var onnxEPPreference string
var onnxDeviceID int

// SetONNXExecutionProvider sets preferred ONNX Runtime EP: "cuda", "tensorrt", "coreml", "dml", or "cpu".
func SetONNXExecutionProvider(ep string) {
	onnxEPPreference = strings.ToLower(strings.TrimSpace(ep))
}

// SetONNXDeviceID sets device ID used by some EPs (e.g., DirectML, CUDA fallback cases).
func SetONNXDeviceID(id int) { onnxDeviceID = id }
