// Package auth issues and checks the opaque credentials that identify an
// account to the metering API.
//
// Credentials look like ccp_<64 hex chars>. Storage never indexes the raw
// value; lookups go through HashCredential so the index key is a SHA256
// digest. Equal performs the final comparison in constant time.
//
//	gen := auth.NewCredentialGenerator()
//	credential, hash, err := gen.Generate()
package auth
