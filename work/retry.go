package work

// retryEligible reports whether a step must be replaced on retry: it
// finished with a failure it does not ignore, or it was aborted.
func retryEligible(s *Step) bool {
	switch s.status {
	case StatusAborted:
		return true
	case StatusDone:
		return !s.ignoreFailure && s.outcome.Kind() == KindFailure
	default:
		return false
	}
}

func countEligible(steps []*Step) int {
	n := 0
	for _, s := range steps {
		if retryEligible(s) {
			n++
		}
	}
	return n
}

// retrySteps returns a copy of steps with every eligible step replaced by
// its retry. Other steps are carried over as the same instances. The
// indexes of replaced steps are returned in order.
func retrySteps(wctx *Context, steps []*Step, dryRun bool) ([]*Step, []int, error) {
	out := make([]*Step, len(steps))
	var replaced []int
	for i, s := range steps {
		if !retryEligible(s) {
			out[i] = s
			continue
		}
		next, err := s.retry(wctx, dryRun)
		if err != nil {
			return nil, nil, err
		}
		out[i] = next
		replaced = append(replaced, i)
	}
	return out, replaced, nil
}
