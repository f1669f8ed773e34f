package models

// Actor describes who made a public request. Raw values live only for the
// duration of the request; only salted hashes are persisted.
type Actor struct {
	IP        string
	UserAgent string
	Country   string
}
