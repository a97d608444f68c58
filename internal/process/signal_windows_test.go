//go:build windows

package process

const processQueryInformation = 0x0400

func processExists(pid int) bool {
	h, err := openProcess(processQueryInformation, uint32(pid))
	if err != nil {
		return false
	}
	closeHandle(h)
	return true
}
