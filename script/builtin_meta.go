package script

// statefulBuiltins names built-ins with externally-visible side effects
// (spec.md §4.4/GLOSSARY): a node that calls one of these must execute in
// script order relative to every other stateful call, never in parallel.
var statefulBuiltins = map[string]bool{
	"workdir": true,
}

// nonConcurrentBuiltins names built-ins that are pure but cannot run
// concurrently with another call to themselves because they serialize on a
// single non-reentrant resource (spec.md §4.7/§4.9: the external-script
// bridge's process-wide interpreter lock).
var nonConcurrentBuiltins = map[string]bool{
	"script": true,
}

// parallelListBuiltins names built-ins whose list arguments are safe to fan
// out across workers (spec.md §4.4's hasParallelFunctionArguments flag):
// aggregations and per-image statistics, whose elements are independent
// pure computations over already-resolved images.
var parallelListBuiltins = map[string]bool{
	"range":      true,
	"avg":        true,
	"min":        true,
	"max":        true,
	"median":     true,
	"avg2":       true,
	"median2":    true,
	"img_avg":    true,
	"img_median": true,
	"img_min":    true,
	"img_max":    true,
}

func isStateful(name string) bool {
	return statefulBuiltins[name]
}

func isNonConcurrent(name string) bool {
	return nonConcurrentBuiltins[name]
}

func hasParallelListArgs(name string) bool {
	return parallelListBuiltins[name]
}
