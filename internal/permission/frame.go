// SPDX-License-Identifier: GPL-3.0-or-later

package permission

import "fmt"

// Frame is the permission context of an executing node or callout: an
// immutable value holding the node's own effective Set and a (lookup-only)
// pointer to its parent frame: a lookup against an ancestor frame never
// sees a later narrowing applied to its descendants.
type Frame struct {
	label  string
	set    Set
	parent *Frame
}

// Root creates the outermost frame, derived from the serving context's
// configured allow/deny.
func Root(set Set) *Frame {
	return &Frame{label: "root", set: set}
}

// DeriveNode computes the frame for a node beginning execution: the
// parent's allow/deny unioned with the node's own allow/deny, then
// narrowed so the component never exceeds what it declared as required.
//
//	allow := parent.allow ∪ node.allow
//	deny  := parent.deny  ∪ node.deny
//	effective := narrow(allow\deny candidates, component.requiredPermissions)
func (f *Frame) DeriveNode(label string, nodeGrant Set, componentRequired []Permission) *Frame {
	unioned := Union(f.set, nodeGrant)
	narrowed := Set{
		Allow: Narrow(unioned.Allow, componentRequired),
		Deny:  unioned.Deny,
	}
	return &Frame{label: label, set: narrowed, parent: f}
}

// DeriveCallout computes the frame for a callout invocation: the current
// frame's authority further restricted to the declared callout
// permissions -- "(parent ∩ declared_callout_allow) \ declared_callout_deny".
func (f *Frame) DeriveCallout(handle string, declaredAllow, declaredDeny []Permission) *Frame {
	narrowed := Set{
		Allow: Narrow(f.set.Allow, declaredAllow),
		Deny:  append(append([]Permission{}, f.set.Deny...), declaredDeny...),
	}
	return &Frame{label: "callout:" + handle, set: narrowed, parent: f}
}

// Authorize checks cap against this frame's effective Set and returns a
// PermissionDenied error (carrying the frame chain) when it is not
// authorised.
func (f *Frame) Authorize(cap Capability) error {
	if f.set.Authorizes(cap) {
		return nil
	}
	return &DeniedError{Capability: cap, Chain: f.Chain()}
}

// Chain returns the frame's labels from this frame up to the root, for
// diagnostics.
func (f *Frame) Chain() []string {
	var chain []string
	for cur := f; cur != nil; cur = cur.parent {
		chain = append(chain, cur.label)
	}
	return chain
}

// Set returns the frame's own effective permission set.
func (f *Frame) Set() Set { return f.set }

// DeniedError is the fatal, non-retryable error raised synchronously at a
// host call when the frame does not authorise the requested capability.
type DeniedError struct {
	Capability Capability
	Chain      []string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s not authorised in frame chain %v", describeCapability(e.Capability), e.Chain)
}

func describeCapability(cap Capability) string {
	p := Permission{Kind: cap.Kind, Key: cap.Key, Handle: cap.Handle}
	if cap.URL != "" {
		p.Prefix = cap.URL
	}
	if cap.Path != "" {
		p.PathPrefix = cap.Path
	}
	return p.String()
}
