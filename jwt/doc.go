// Package jwt issues and verifies the access tokens handed out once a sign-in
// has cleared every required factor.
package jwt
