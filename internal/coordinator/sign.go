package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/tagmesh/tagmesh/internal/identity"
)

// Documents are signed over their JSON form with the signature field empty.
// Verification re-marshals the parsed struct, so both sides serialize the
// same field set in the same order.

func signDocument(kp *identity.Keypair, doc any, setSig func(string)) error {
	setSig("")
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	setSig(kp.Sign(b))
	return nil
}

func verifyDocument(publicKeyMultibase string, doc any, sig string, setSig func(string)) error {
	setSig("")
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	setSig(sig)
	return identity.Verify(publicKeyMultibase, b, sig)
}
