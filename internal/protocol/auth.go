package protocol

// ClientKey announces the public keys of a joining node's local players.
type ClientKey struct {
	Keys [MaxSplitscreen]PublicKey
}

func AppendClientKey(dst []byte, c ClientKey) []byte {
	for _, key := range c.Keys {
		dst = append(dst, key[:]...)
	}
	return dst
}

func DecodeClientKey(payload []byte) (ClientKey, error) {
	r := NewReader(payload)
	var c ClientKey
	for i := range c.Keys {
		r.Read(c.Keys[i][:])
	}
	if err := r.Done(); err != nil {
		return ClientKey{}, err
	}
	return c, nil
}

// AppendChallenge encodes ServerChallenge and ChallengeAll payloads.
func AppendChallenge(dst []byte, c Challenge) []byte {
	return append(dst, c[:]...)
}

func DecodeChallenge(payload []byte) (Challenge, error) {
	r := NewReader(payload)
	var c Challenge
	r.Read(c[:])
	if err := r.Done(); err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// ResponseAll holds one signature per local split.
type ResponseAll struct {
	Signatures [MaxSplitscreen]Signature
}

func AppendResponseAll(dst []byte, r ResponseAll) []byte {
	for _, sig := range r.Signatures {
		dst = append(dst, sig[:]...)
	}
	return dst
}

func DecodeResponseAll(payload []byte) (ResponseAll, error) {
	r := NewReader(payload)
	var out ResponseAll
	for i := range out.Signatures {
		r.Read(out.Signatures[i][:])
	}
	if err := r.Done(); err != nil {
		return ResponseAll{}, err
	}
	return out, nil
}

// ResultsAll relays every verified signature, indexed by player slot.
type ResultsAll struct {
	Signatures [MaxPlayers]Signature
}

func AppendResultsAll(dst []byte, r ResultsAll) []byte {
	for _, sig := range r.Signatures {
		dst = append(dst, sig[:]...)
	}
	return dst
}

func DecodeResultsAll(payload []byte) (ResultsAll, error) {
	r := NewReader(payload)
	var out ResultsAll
	for i := range out.Signatures {
		r.Read(out.Signatures[i][:])
	}
	if err := r.Done(); err != nil {
		return ResultsAll{}, err
	}
	return out, nil
}
