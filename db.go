package acme

// Writer defines the interface for storing certificate history records.
type Writer interface {
	// AddCert adds a new certificate record to the history.
	AddCert(cert Cert) error
}

// NopWriter discards history records. Used when no history database is
// configured.
type NopWriter struct{}

func (NopWriter) AddCert(Cert) error { return nil }
