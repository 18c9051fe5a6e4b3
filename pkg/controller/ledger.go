package controller

// Ledger tracks energy (kWh) that shed devices still owe the household.
type Ledger struct {
	balance  float64
	deferred float64
	drained  float64
}

// Defer adds energy that a shed device would have consumed.
func (l *Ledger) Defer(kwh float64) {
	if kwh <= 0 {
		return
	}
	l.balance += kwh
	l.deferred += kwh
}

// Drain repays an even share of the current balance over the remaining steps,
// including the current one, and returns the energy to consume this step. The
// share is recomputed from the balance on every call so that a short step
// is made up by the following ones. With one step remaining the whole balance
// is returned.
func (l *Ledger) Drain(remainingSteps int) float64 {
	if l.balance <= 0 {
		return 0
	}
	energy := l.balance
	if remainingSteps > 1 {
		energy = l.balance / float64(remainingSteps)
	}
	l.balance -= energy
	if l.balance < 0 {
		l.balance = 0
	}
	l.drained += energy
	return energy
}

// BalanceKWH is the energy still owed.
func (l Ledger) BalanceKWH() float64 {
	return l.balance
}

// DeferredKWH is the total energy ever deferred.
func (l Ledger) DeferredKWH() float64 {
	return l.deferred
}

// DrainedKWH is the total energy ever repaid.
func (l Ledger) DrainedKWH() float64 {
	return l.drained
}
