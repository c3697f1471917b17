package emulator

// Frame is one active call.
type Frame struct {
	Site   uint32 // address of the CALL
	Target uint32
	Return uint32
	Name   string
}

// CallNode is a call-tree node. Repeated calls to the same target from the
// same parent share a node and bump Calls.
type CallNode struct {
	Target   uint32
	Name     string
	Calls    int
	Children []*CallNode

	parent *CallNode
}

func (n *CallNode) child(target uint32, name string) *CallNode {
	for _, c := range n.Children {
		if c.Target == target {
			return c
		}
	}
	c := &CallNode{Target: target, Name: name, parent: n}
	n.Children = append(n.Children, c)
	return c
}

// Limits on the diagnostic call stack. Past maxFrames calls are counted but
// not recorded; past maxTreeDepth they stop adding tree nodes.
const (
	maxFrames    = 4096
	maxTreeDepth = 64
)

// callTracker implements x86.Tracer. It is a debug aid only: a RET that does
// not match a recorded frame is ignored.
type callTracker struct {
	stack    []Frame
	overflow int
	root     *CallNode
	cur      *CallNode
	depth    int
	name     func(uint32) string
}

func newCallTracker(name func(uint32) string) *callTracker {
	root := &CallNode{Name: "<entry>"}
	return &callTracker{root: root, cur: root, name: name}
}

func (t *callTracker) Call(site, target, ret uint32) {
	if len(t.stack) >= maxFrames {
		t.overflow++
		return
	}
	name := t.name(target)
	t.stack = append(t.stack, Frame{Site: site, Target: target, Return: ret, Name: name})
	t.depth++
	if t.depth <= maxTreeDepth {
		t.cur = t.cur.child(target, name)
		t.cur.Calls++
	}
}

func (t *callTracker) Return(site, target uint32) {
	if t.overflow > 0 {
		t.overflow--
		return
	}
	if len(t.stack) == 0 {
		return
	}
	t.stack = t.stack[:len(t.stack)-1]
	if t.depth <= maxTreeDepth && t.cur.parent != nil {
		t.cur = t.cur.parent
	}
	t.depth--
}

// Stack returns a copy of the active frames, innermost last.
func (t *callTracker) Stack() []Frame {
	return append([]Frame(nil), t.stack...)
}
