//go:build windows

// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"io/fs"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procGetExplicitEntriesFromAcl = windows.NewLazySystemDLL("advapi32.dll").NewProc("GetExplicitEntriesFromAclW")

// checkOwnerOnly ignores want; the DACL decides.
func checkOwnerOnly(path string, _ fs.FileMode) error {
	sd, err := windows.GetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.OWNER_SECURITY_INFORMATION,
	)
	if err != nil {
		return fmt.Errorf("failed to get security info for %s: %w", path, err)
	}

	owner, _, err := sd.Owner()
	if err != nil {
		return fmt.Errorf("failed to get owner SID: %w", err)
	}

	token, err := windows.OpenCurrentProcessToken()
	if err != nil {
		return fmt.Errorf("failed to open process token: %w", err)
	}
	defer token.Close()

	current, err := token.GetTokenUser()
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}

	dacl, _, err := sd.DACL()
	if err != nil {
		return fmt.Errorf("failed to get DACL: %w", err)
	}

	return checkDACL(dacl, owner, current.User.Sid)
}

// checkDACL rejects a NULL DACL, grants to the broad built-in groups and
// unexpected owners.
func checkDACL(dacl *windows.ACL, owner, currentUser *windows.SID) error {
	if dacl == nil {
		return fmt.Errorf("%w: NULL DACL grants full access to everyone", ErrInsecurePermissions)
	}

	broad := []struct {
		kind windows.WELL_KNOWN_SID_TYPE
		name string
	}{
		{windows.WinWorldSid, "Everyone"},
		{windows.WinBuiltinUsersSid, "Users"},
		{windows.WinAuthenticatedUserSid, "Authenticated Users"},
	}
	granted, err := grantedSIDs(dacl)
	if err != nil {
		return err
	}
	for _, b := range broad {
		sid, err := windows.CreateWellKnownSid(b.kind)
		if err != nil {
			continue
		}
		for _, g := range granted {
			if g.Equals(sid) {
				return fmt.Errorf("%w: %s has access", ErrInsecurePermissions, b.name)
			}
		}
	}

	if owner == nil || owner.Equals(currentUser) {
		return nil
	}
	admins, err := windows.CreateWellKnownSid(windows.WinBuiltinAdministratorsSid)
	if err != nil {
		return fmt.Errorf("failed to get Administrators SID: %w", err)
	}
	system, err := windows.CreateWellKnownSid(windows.WinLocalSystemSid)
	if err != nil {
		return fmt.Errorf("failed to get SYSTEM SID: %w", err)
	}
	if !owner.Equals(admins) && !owner.Equals(system) {
		return fmt.Errorf("%w: owned by %s", ErrInsecurePermissions, owner.String())
	}
	return nil
}

// grantedSIDs lists the SIDs that the DACL's explicit entries grant or set
// access for.
func grantedSIDs(dacl *windows.ACL) ([]*windows.SID, error) {
	var (
		entries *windows.EXPLICIT_ACCESS
		count   uint32
	)
	ret, _, _ := procGetExplicitEntriesFromAcl.Call(
		uintptr(unsafe.Pointer(dacl)),
		uintptr(unsafe.Pointer(&count)),
		uintptr(unsafe.Pointer(&entries)),
	)
	if ret != 0 {
		return nil, fmt.Errorf("failed to read ACL entries: %w", windows.Errno(ret))
	}
	if entries == nil || count == 0 {
		return nil, nil
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(entries)))

	var sids []*windows.SID
	for _, e := range unsafe.Slice(entries, count) {
		if e.AccessMode != windows.GRANT_ACCESS && e.AccessMode != windows.SET_ACCESS {
			continue
		}
		if e.Trustee.TrusteeForm != windows.TRUSTEE_IS_SID {
			continue
		}
		sid := (*windows.SID)(unsafe.Pointer(e.Trustee.TrusteeValue))
		if sid == nil {
			continue
		}
		// Copy out before the entries are freed.
		c, err := sid.Copy()
		if err != nil {
			return nil, fmt.Errorf("failed to copy SID: %w", err)
		}
		sids = append(sids, c)
	}
	return sids, nil
}
