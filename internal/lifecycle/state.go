package lifecycle

// State 是 worker 的生命周期状态。
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

func (s State) String() string {
	return string(s)
}

// Terminal 表示状态不会再变化。
func (s State) Terminal() bool {
	return s == StateRedundant
}
