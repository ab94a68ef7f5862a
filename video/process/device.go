package process

import (
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Devices lists the accepted --device values.
var Devices = []string{"cpu", "opencl", "opencl-fp16", "cuda", "cuda-fp16", "openvino"}

// ParseDevice maps a device name onto an OpenCV DNN backend and target.
func ParseDevice(device string) (gocv.NetBackendType, gocv.NetTargetType, error) {
	switch strings.ToLower(strings.TrimSpace(device)) {
	case "cpu":
		return gocv.NetBackendOpenCV, gocv.NetTargetCPU, nil
	case "opencl":
		return gocv.NetBackendOpenCV, gocv.NetTargetFP32, nil
	case "opencl-fp16":
		return gocv.NetBackendOpenCV, gocv.NetTargetFP16, nil
	case "cuda":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA, nil
	case "cuda-fp16":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDAFP16, nil
	case "openvino":
		return gocv.NetBackendOpenVINO, gocv.NetTargetCPU, nil
	}
	return gocv.NetBackendDefault, gocv.NetTargetCPU, errors.Errorf("unknown device %q, want one of %s", device, strings.Join(Devices, ", "))
}
