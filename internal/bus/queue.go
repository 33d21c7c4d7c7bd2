package bus

import "github.com/xkilldash9x/ghosthand/api/schemas"

// messageHeap orders messages by (Priority, Seq). It implements heap.Interface.
type messageHeap []schemas.TaskMessage

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(schemas.TaskMessage)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = schemas.TaskMessage{}
	*h = old[:n-1]
	return m
}
