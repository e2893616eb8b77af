package application

// defaultTakerFeePct is the taker fee rate applied to the trade amount when
// none is configured.
const defaultTakerFeePct = 0.003

// minTakerFee floors the taker fee in atomic units.
const minTakerFee uint64 = 100000
