// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

// Credentials contains information required to authorize privileged
// operations in a user namespace.
//
// Credentials are immutable once shared; use Fork to derive a copy.
type Credentials struct {
	// Real/effective/saved user/group IDs in the root user namespace. None of
	// these should ever be NoID.
	RealKUID      KUID
	EffectiveKUID KUID
	SavedKUID     KUID
	RealKGID      KGID
	EffectiveKGID KGID
	SavedKGID     KGID

	// Filesystem user/group IDs are not implemented. "... setfsuid() is
	// nowadays unneeded and should be avoided in new applications (likewise
	// for setfsgid(2))." - setfsuid(2)

	// Supplementary groups used by set/getgroups.
	ExtraKGIDs []KGID

	// EffectiveCaps is the set of capabilities used for permission checks.
	EffectiveCaps CapabilitySet
}

// NewRootCredentials returns credentials for the superuser. Holding
// CAP_DAC_OVERRIDE lets it bypass every mode check.
func NewRootCredentials() *Credentials {
	return &Credentials{
		RealKUID:      RootKUID,
		EffectiveKUID: RootKUID,
		SavedKUID:     RootKUID,
		RealKGID:      RootKGID,
		EffectiveKGID: RootKGID,
		SavedKGID:     RootKGID,
		EffectiveCaps: AllCapabilities,
	}
}

// NewUserCredentials returns credentials for an unprivileged user.
func NewUserCredentials(kuid KUID, kgid KGID, extraKGIDs []KGID) *Credentials {
	creds := &Credentials{
		RealKUID:      kuid,
		EffectiveKUID: kuid,
		SavedKUID:     kuid,
		RealKGID:      kgid,
		EffectiveKGID: kgid,
		SavedKGID:     kgid,
		ExtraKGIDs:    append([]KGID(nil), extraKGIDs...),
	}
	if kuid == RootKUID {
		creds.EffectiveCaps = AllCapabilities
	}
	return creds
}

// Fork generates an identical copy of a set of credentials.
func (c *Credentials) Fork() *Credentials {
	nc := new(Credentials)
	*nc = *c // Copy-by-value; this is legal for all fields.
	nc.ExtraKGIDs = append([]KGID(nil), c.ExtraKGIDs...)
	return nc
}

// InGroup returns true if c is in group kgid. Compare Linux's
// kernel/groups.c:in_group_p().
func (c *Credentials) InGroup(kgid KGID) bool {
	if c.EffectiveKGID == kgid {
		return true
	}
	for _, extraKGID := range c.ExtraKGIDs {
		if extraKGID == kgid {
			return true
		}
	}
	return false
}

// HasCapability returns true if c holds capability cp.
func (c *Credentials) HasCapability(cp Capability) bool {
	return c.EffectiveCaps.Has(cp)
}
