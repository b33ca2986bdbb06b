// Package terraform wraps the terraform CLI as the infrastructure-state
// backend for the control channel.
//
// Ownership boundary:
// - base command assembly from TF_* environment bindings
//
// - resource listing (state list)
//
// - targeted destroy
//
// The backend is invoked, never reimplemented. Listing degrades to an empty
// set on failure, but the failure stays visible through Listing.Outcome.
package terraform
