package types

// MakeGenesisHeader 高度为0的区块头，第0轮只包含创世时间
func MakeGenesisHeader(genDoc *GenesisDoc) *Header {
	return &Header{
		ChainID:        genDoc.ChainID,
		Height:         0,
		Time:           genDoc.StartTime(),
		RoundIndex:     0,
		RoundStartTime: genDoc.StartTime(),
	}
}
