package notebook

import (
	"testing"
	"tmcnotebook/testutil"
)

func TestSessionReachesStorageThroughRegistry(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.InfraImportForbidden, testutil.StorageImportForbidden),
		"session writes go through core.Registry")
}
