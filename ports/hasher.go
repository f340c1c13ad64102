package ports

// PasswordHasher is the credential store's hashing contract
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}
