package risk

// Correlation groups. Symbols in one group are assumed to move together and
// their combined exposure is capped.
const (
	GroupMajor    = "major_crypto"
	GroupDeFi     = "defi_tokens"
	GroupLayer1   = "layer1_chains"
	GroupMeme     = "meme_coins"
	GroupExchange = "exchange_tokens"
)

var correlationGroups = map[string][]string{
	GroupMajor:    {"BTC", "ETH"},
	GroupDeFi:     {"UNI", "AAVE", "COMP", "MKR"},
	GroupLayer1:   {"SOL", "ADA", "DOT", "AVAX"},
	GroupMeme:     {"DOGE", "SHIB"},
	GroupExchange: {"BNB", "FTT", "CRO"},
}

var groupOf = func() map[string]string {
	m := make(map[string]string)
	for group, symbols := range correlationGroups {
		for _, s := range symbols {
			m[s] = group
		}
	}
	return m
}()

// GroupOf returns the correlation group of symbol, or "" when it is unclassified.
func GroupOf(symbol string) string {
	return groupOf[symbol]
}

// GroupMembers returns the symbols of a correlation group.
func GroupMembers(group string) []string {
	return correlationGroups[group]
}
