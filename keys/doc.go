// Package keys provides the key-management collaborators around the
// envelope: the local salt store, project salt rotation, and package
// attestation.
//
// Stable:
//   - Pure signing and issuer-key formatting primitives.
//
// Experimental:
//   - Filesystem-backed salt storage and rotation state. These are
//     local-first utilities, not part of the wire format contract.
package keys
