// Package manifest parses and canonicalizes dependency manifests.
//
// A manifest declares the external dependencies of a build, one per
// line, as a package name optionally followed by a semver constraint:
//
//	# runtime dependencies
//	flask >=2.0 <3.0
//	gunicorn ^21.0
//	requests
//
// Comments and blank lines are ignored. The canonical form sorts
// entries and normalizes whitespace so that two manifests with the
// same declared content always serialize to identical bytes, no
// matter how they were formatted. The canonical bytes are what the
// fingerprint package hashes.
package manifest
