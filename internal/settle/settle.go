// Package settle collapses a group's net balances into a small set of
// directed payments that clears every balance.
package settle

import "container/heap"

// Edge is a suggested payment: Borrower pays Lender Value cents.
type Edge struct {
	Borrower string
	Lender   string
	Value    int64
}

// Simplify matches debtors against creditors greedily, always pairing the
// largest outstanding debt with the largest outstanding credit. Ties on
// magnitude are broken by ascending identity so the same balances always
// yield the same edges in the same order.
//
// Users with a zero balance never appear in the result. Each step zeroes at
// least one party, so at most n-1 edges are emitted for n non-zero balances
// and no pair of users is connected twice.
func Simplify(balances map[string]int64) []Edge {
	debtors := &parties{}
	creditors := &parties{}
	for id, balance := range balances {
		switch {
		case balance < 0:
			debtors.items = append(debtors.items, party{id: id, amount: -balance})
		case balance > 0:
			creditors.items = append(creditors.items, party{id: id, amount: balance})
		}
	}
	heap.Init(debtors)
	heap.Init(creditors)

	var edges []Edge
	for debtors.Len() > 0 && creditors.Len() > 0 {
		d := heap.Pop(debtors).(party)
		c := heap.Pop(creditors).(party)

		t := min(d.amount, c.amount)
		edges = append(edges, Edge{Borrower: d.id, Lender: c.id, Value: t})

		d.amount -= t
		c.amount -= t
		if d.amount > 0 {
			heap.Push(debtors, d)
		}
		if c.amount > 0 {
			heap.Push(creditors, c)
		}
	}
	return edges
}

type party struct {
	id     string
	amount int64
}

// parties is a max-heap on amount, then min on id.
type parties struct {
	items []party
}

func (p *parties) Len() int { return len(p.items) }

func (p *parties) Less(i, j int) bool {
	a, b := p.items[i], p.items[j]
	if a.amount != b.amount {
		return a.amount > b.amount
	}
	return a.id < b.id
}

func (p *parties) Swap(i, j int) { p.items[i], p.items[j] = p.items[j], p.items[i] }

func (p *parties) Push(x any) { p.items = append(p.items, x.(party)) }

func (p *parties) Pop() any {
	old := p.items
	n := len(old)
	item := old[n-1]
	p.items = old[:n-1]
	return item
}
