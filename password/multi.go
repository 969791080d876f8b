package password

// Multi hashes with Preferred and verifies digests from any algorithm in
// this package. NeedsUpgrade reports true whenever a digest was produced
// by the other algorithm or with weaker parameters.
type Multi struct {
	Preferred Hasher
	Bcrypt    *Bcrypt
	Argon2    *Argon2
}

func (m *Multi) Hash(plaintext string) (string, error) {
	return m.Preferred.Hash(plaintext)
}

func (m *Multi) Verify(plaintext, digest string) (bool, error) {
	h, err := m.hasherFor(digest)
	if err != nil {
		return false, err
	}
	return h.Verify(plaintext, digest)
}

func (m *Multi) NeedsUpgrade(digest string) (bool, error) {
	h, err := m.hasherFor(digest)
	if err != nil {
		return false, err
	}
	if h != m.Preferred {
		return true, nil
	}
	return h.NeedsUpgrade(digest)
}

func (m *Multi) hasherFor(digest string) (Hasher, error) {
	switch {
	case isBcryptDigest(digest) && m.Bcrypt != nil:
		return m.Bcrypt, nil
	case isArgon2Digest(digest) && m.Argon2 != nil:
		return m.Argon2, nil
	default:
		return nil, ErrUnsupportedDigest
	}
}
