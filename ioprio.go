package linuxaio

// I/O priority classes from linux/ioprio.h, for Request.SetPriority.
const (
	PrioClassRT   = 1 // real-time
	PrioClassBE   = 2 // best-effort
	PrioClassIdle = 3
)

const prioClassShift = 13

// PrioValue packs a priority class and class-dependent data into the value
// Request.SetPriority expects. See the ioprio_set(2) manpage for the
// meaning of data per class.
func PrioValue(class, data int) int {
	return class<<prioClassShift | data
}
