package domain

import (
	"testing"
	"tmcnotebook/testutil"
)

func TestDomainStaysPublic(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain is imported by every layer")
}
