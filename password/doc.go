// Package password hashes account passwords with Argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The package never stores or logs passwords. Callers keep the hash next to
// the account and call NeedsRehash after a successful check to roll cost
// parameters forward.
package password
