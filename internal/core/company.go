package core

// Company is a tenant. Status and reason catalogs are scoped to it, and
// every invoice and movement belongs to exactly one.
type Company struct {
	ID        string
	Name      string
	VATNumber string
	IBAN      string
}
