// Vahti - Local Git Operation Guardrails
// Intercept. Decide. Audit.
package main

func main() {
	Execute()
}
