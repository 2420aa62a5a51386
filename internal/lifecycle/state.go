package lifecycle

// State is a lifecycle phase of the gateway.
type State string

const (
	StateUninstalled State = "uninstalled"
	StateInstalling  State = "installing"
	// StateInstalled is the waiting phase: precache is complete but a previous
	// version may still be in control.
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
	// StateRedundant follows a failed install.
	StateRedundant State = "redundant"
)

// canInstall reports whether Install may start from s.
func (s State) canInstall() bool {
	return s == StateUninstalled || s == StateRedundant
}
