package ledger

// SeedBalances is a test helper that overwrites member balances of an
// in-memory ledger and rebuilds the group's debts from them.
func SeedBalances(l Ledger, groupID string, balances map[string]int64) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()

	for key, balance := range balances {
		u, exists := mem.users[key]
		if !exists || u.GroupID != groupID {
			continue
		}
		u.Balance = balance
		mem.users[key] = u
	}
	debts := simplifyDebts(groupID, mem.balances(groupID))
	sortDebts(debts)
	mem.debts[groupID] = debts
}
