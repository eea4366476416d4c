package worker

import "fmt"

// InstallError 描述清单中某个资源导致安装失败的原因。
type InstallError struct {
	URL    string
	Status int
	Err    error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precache %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("precache %s: unexpected status %d", e.URL, e.Status)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
