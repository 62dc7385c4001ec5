package curtain

import (
	"fmt"

	"go.uber.org/atomic"
)

// debugMode mirrors the most recently set Stage debug flag so that node
// operations (which lack a Stage pointer) can check it cheaply. Only
// meaningful with a single Stage; multiple Stages with differing debug modes
// reflect whichever called SetDebugMode last.
var debugMode atomic.Bool

// debugCheckDisposed panics with a descriptive message when a disposed node is
// used in a tree operation. In release mode callers skip this entirely.
func debugCheckDisposed(n *Node, op string) {
	if n.disposed {
		panic(fmt.Sprintf("curtain debug: %s on disposed node %q (ID was %d)", op, n.Name, n.ID))
	}
}

// debugCheckTreeDepth warns if tree depth exceeds the threshold.
const debugMaxTreeDepth = 32

func debugCheckTreeDepth(n *Node) {
	depth := 0
	for p := n; p != nil; p = p.Parent {
		depth++
	}
	if depth > debugMaxTreeDepth {
		Logger().Warn("tree depth exceeds threshold",
			"depth", depth, "threshold", debugMaxTreeDepth, "node", n.Name)
	}
}

// debugCheckChildCount warns if a node has more than 1000 children.
const debugMaxChildCount = 1000

func debugCheckChildCount(n *Node) {
	if len(n.children) > debugMaxChildCount {
		Logger().Warn("child count exceeds threshold",
			"node", n.Name, "children", len(n.children), "threshold", debugMaxChildCount)
	}
}
