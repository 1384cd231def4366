package user

import (
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword compares a candidate password with the stored hash. Users
// provisioned through Auth0 have no hash and never match.
func (u User) CheckPassword(password string) bool {
	if !u.PasswordHash.Valid {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash.String), []byte(password)) == nil
}
