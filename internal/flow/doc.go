// Package flow drives one build flow run
//
// A Run owns the execution graph of every job its directives invoke. Each
// logical thread of the run works through a Thread, which carries a State:
// the thread's aggregate result and the frontier of graph vertices that the
// next invocation is linked from. Directives come from an Evaluator, either
// Go code or a ProgramEvaluator feeding an api.Program
package flow
