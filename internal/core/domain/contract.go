package domain

import "fmt"

// Contract is the immutable record both parties commit to once the multisig
// key exchange fixed the deposit addresses. It is what an arbitrator rules
// on in a dispute.
type Contract struct {
	TradeID             string
	OfferPayload        OfferPayload
	Amount              uint64
	Price               string
	TakerFee            uint64
	MakerAddress        string
	TakerAddress        string
	ArbitratorAddress   string
	MakerPubKey         []byte
	TakerPubKey         []byte
	MakerPayoutAddress  string
	TakerPayoutAddress  string
	MakerMultisigPubKey []byte
	TakerMultisigPubKey []byte
	ArbMultisigPubKey   []byte
}

// Validate checks the contract is complete enough to be fixed on the trade.
func (c Contract) Validate() error {
	switch {
	case c.TradeID == "":
		return fmt.Errorf("contract: missing trade id")
	case c.MakerPayoutAddress == "" || c.TakerPayoutAddress == "":
		return fmt.Errorf("contract: missing payout address")
	case len(c.MakerMultisigPubKey) == 0 ||
		len(c.TakerMultisigPubKey) == 0 ||
		len(c.ArbMultisigPubKey) == 0:
		return fmt.Errorf("contract: missing multisig key")
	}
	return nil
}
