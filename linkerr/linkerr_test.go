package linkerr

import (
	"errors"
	"testing"
)

func TestWrappedKindMatchesErrorsIs(t *testing.T) {
	err := Wrap(PathNotFound, "/foo/bar")
	if !errors.Is(err, PathNotFound) {
		t.Error("errors.Is should match the wrapped Kind")
	}
	if errors.Is(err, InvalidValue) {
		t.Error("errors.Is should not match an unrelated Kind")
	}
}

func TestKindDistinctCodes(t *testing.T) {
	seen := map[int]Kind{}
	for _, k := range []Kind{
		PathNotFound, ConfigValueNotFound, AttributeValueNotFound,
		NotAValueNode, InvalidValue, InvalidConfigName, InvalidStream,
		InvalidEditorType, EditorTypeNotAllowed, NoNodeDefinedYet,
		InvalidTableReplaceModifierIndex, InvalidLinkTypeSpecified,
		NodeIsNotWritable, EmptyNameSpecified, InvalidNameCharacters,
		InvalidDslinkJSON, NoDslinkJSONFound, InvalidRemoveOperation,
		InvalidPermissionSpecified, InternalError,
	} {
		if other, ok := seen[k.Code]; ok {
			t.Errorf("duplicate code %d shared by %q and %q", k.Code, other.Error(), k.Error())
		}
		seen[k.Code] = k
	}
}
