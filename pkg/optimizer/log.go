package optimizer

import "github.com/tliron/commonlog"

const logName = "squash.optimizer"

// logger is resolved on every call so that a backend selected after package
// initialization still takes effect.
func logger() commonlog.Logger {
	return commonlog.GetLogger(logName)
}
