package nvim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

// vimStub answers every field access and call with another stub, which is
// enough to run the setup code outside nvim.
const vimStub = `
local function stub()
  return setmetatable({}, {
    __index = function(t, k)
      local v = stub()
      rawset(t, k, v)
      return v
    end,
    __call = function()
      return stub()
    end,
  })
end
vim = stub()
`

func TestBridgeScriptCompiles(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	_, err := L.LoadString(bridgeScript)
	require.NoError(t, err)
}

func TestBridgeScriptExportsModule(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	require.NoError(t, L.DoString(vimStub))

	fn, err := L.LoadString(bridgeScript)
	require.NoError(t, err)
	L.Push(fn)
	L.Push(lua.LNumber(7))
	require.NoError(t, L.PCall(1, 1, nil))
	assert.Equal(t, lua.LTrue, L.Get(-1))

	mod, ok := L.GetGlobal("nvbridge").(*lua.LTable)
	require.True(t, ok, "nvbridge global is not a table")
	for _, name := range []string{
		"setup", "register_and_attach", "focus", "buffer_update", "get_content",
		"revision", "reload", "join_no_space", "set_cursor", "set_visual", "mark_saved", "delete_buffer",
	} {
		_, isFn := mod.RawGetString(name).(*lua.LFunction)
		assert.True(t, isFn, name)
	}
}

func TestClipboardRegisterShape(t *testing.T) {
	lines, regtype := clipboardLines("a\r\nb\n")
	assert.Equal(t, []string{"a", "b"}, lines)
	assert.Equal(t, "V", regtype)
	assert.Equal(t, "a\nb", clipboardText([]string{"a", "b"}, "v"))
}
