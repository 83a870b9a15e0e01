package datasync

import "fmt"

// Strategy decides what happens when a source row's primary key already
// exists in the target.
type Strategy string

const (
	// StrategySkip leaves existing target rows untouched.
	StrategySkip Strategy = "skip"
	// StrategyOverwrite replaces every non-key column from the source.
	StrategyOverwrite Strategy = "overwrite"
	// StrategyMerge fills only target columns that are NULL or empty.
	StrategyMerge Strategy = "merge"
)

// Strategies lists the accepted strategy names, in documentation order.
func Strategies() []string {
	return []string{string(StrategySkip), string(StrategyOverwrite), string(StrategyMerge)}
}

// ParseStrategy validates a strategy name from a flag or request body.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySkip, StrategyOverwrite, StrategyMerge:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unexpected value %q: permitted values are %v", s, Strategies())
}
