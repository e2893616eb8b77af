package domain

// XmrAddressEntry is a wallet address reserved for a purpose, keyed by
// (offerId, context).
type XmrAddressEntry struct {
	OfferID         string
	Context         AddressContext
	Address         string
	KeyIndex        uint32
	ReservedBalance uint64
}

// XmrAddressEntryList is the persisted collection of address reservations.
type XmrAddressEntryList struct {
	Entries []XmrAddressEntry
}

// Entry returns the entry for the given (offerId, context) key.
func (l *XmrAddressEntryList) Entry(offerID string, context AddressContext) (XmrAddressEntry, bool) {
	for _, e := range l.Entries {
		if e.OfferID == offerID && e.Context == context {
			return e, true
		}
	}
	return XmrAddressEntry{}, false
}

// Add appends a reservation. An existing entry for the same key is replaced
// so re-running a reservation task after a crash is idempotent.
func (l *XmrAddressEntryList) Add(entry XmrAddressEntry) {
	for i, e := range l.Entries {
		if e.OfferID == entry.OfferID && e.Context == entry.Context {
			l.Entries[i] = entry
			return
		}
	}
	l.Entries = append(l.Entries, entry)
}

// SwapToAvailable releases all reservations of an offer back to the
// available pool, zeroing the reserved balance. Used by compensating
// rollbacks.
func (l *XmrAddressEntryList) SwapToAvailable(offerID string) int {
	swapped := 0
	for i, e := range l.Entries {
		if e.OfferID == offerID && e.Context != AddressContextAvailable {
			l.Entries[i].Context = AddressContextAvailable
			l.Entries[i].OfferID = ""
			l.Entries[i].ReservedBalance = 0
			swapped++
		}
	}
	return swapped
}

// ReservedBalance sums the reserved balances of an offer across contexts.
func (l *XmrAddressEntryList) ReservedBalance(offerID string) uint64 {
	var total uint64
	for _, e := range l.Entries {
		if e.OfferID == offerID {
			total += e.ReservedBalance
		}
	}
	return total
}
