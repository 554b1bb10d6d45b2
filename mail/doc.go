// Package mail provides twofa.MailTransport implementations: an SMTP
// sender, a SendGrid API sender and a logging transport for development.
//
// Transports never retry. A failed delivery is reported through the
// returned twofa.MailStatus and logged with the underlying cause; the cause
// itself is not handed back to the engine.
package mail
