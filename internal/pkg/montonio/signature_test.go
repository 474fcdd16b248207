package montonio

import "testing"

func TestVerifyBodySignature(t *testing.T) {
	body := []byte(`{"orderId":"ABC123","paymentStatus":"paid"}`)
	secret := "webhook-secret"

	valid := SignBody(body, secret)
	if !VerifyBodySignature(body, valid, secret) {
		t.Fatalf("expected signature to validate")
	}

	if VerifyBodySignature(body, valid, "other-secret") {
		t.Fatalf("expected mismatch with wrong secret")
	}
	if VerifyBodySignature([]byte(`{"orderId":"tampered"}`), valid, secret) {
		t.Fatalf("expected mismatch with tampered body")
	}
	if VerifyBodySignature(body, "", secret) {
		t.Fatalf("expected missing header to fail")
	}
	if VerifyBodySignature(body, valid, "") {
		t.Fatalf("expected missing secret to fail")
	}
	if VerifyBodySignature(body, "%%%not-base64%%%", secret) {
		t.Fatalf("expected undecodable header to fail")
	}
}
