package lua

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"rgblight/internal/core"
	"rgblight/internal/mathx"
)

// registerGoFunctions exposes the light to the given Lua state.
func (e *Engine) registerGoFunctions(L *lua.LState, ctx context.Context) {
	L.SetGlobal("set_mode", L.NewFunction(e.luaSetMode))
	L.SetGlobal("set_color", L.NewFunction(e.luaSetColor(core.AttrPrimaryColor)))
	L.SetGlobal("set_secondary", L.NewFunction(e.luaSetColor(core.AttrSecondaryColor)))
	L.SetGlobal("set_power", L.NewFunction(e.luaSetPower))
	L.SetGlobal("set_speed", L.NewFunction(e.luaSetByte(core.AttrSpeed)))
	L.SetGlobal("set_brightness", L.NewFunction(e.luaSetByte(core.AttrRainbowBrightness)))
	L.SetGlobal("battery", L.NewFunction(e.luaBattery))
	L.SetGlobal("state", L.NewFunction(e.luaState))
	L.SetGlobal("print", L.NewFunction(e.luaPrint))

	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		return luaSleep(L, ctx)
	}))
	L.SetGlobal("should_stop", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(ctx.Err() != nil))
		return 1
	}))

	modes := L.NewTable()
	modes.RawSetString("STATIC", lua.LNumber(core.ModeStatic))
	modes.RawSetString("RAINBOW", lua.LNumber(core.ModeRainbow))
	modes.RawSetString("STROBE", lua.LNumber(core.ModeStrobe))
	L.SetGlobal("MODE", modes)
}

func (e *Engine) write(L *lua.LState, attr core.Attribute, data []byte) {
	if err := e.writer.Write(attr, data); err != nil {
		L.RaiseError("%s: %v", attr, err)
	}
}

func toByte(L *lua.LState, n int) byte {
	return byte(mathx.Clamp(L.CheckInt(n), 0, 255))
}

func toIntensity(L *lua.LState, n int) uint16 {
	return uint16(mathx.Clamp(L.CheckInt(n), 0, core.MaxIntensity))
}

func (e *Engine) luaSetMode(L *lua.LState) int {
	e.write(L, core.AttrMode, []byte{toByte(L, 1)})
	return 0
}

func (e *Engine) luaSetColor(attr core.Attribute) lua.LGFunction {
	return func(L *lua.LState) int {
		c := core.Color{toIntensity(L, 1), toIntensity(L, 2), toIntensity(L, 3)}
		e.write(L, attr, core.EncodeColor(c))
		return 0
	}
}

func (e *Engine) luaSetPower(L *lua.LState) int {
	var b byte
	if L.ToBool(1) {
		b = 1
	}
	e.write(L, core.AttrPower, []byte{b})
	return 0
}

func (e *Engine) luaSetByte(attr core.Attribute) lua.LGFunction {
	return func(L *lua.LState) int {
		e.write(L, attr, []byte{toByte(L, 1)})
		return 0
	}
}

func (e *Engine) luaBattery(L *lua.LState) int {
	L.Push(lua.LNumber(e.state.Snapshot().BatteryPercent))
	return 1
}

// luaState returns a table with the current readable values.
func (e *Engine) luaState(L *lua.LState) int {
	v := e.state.Snapshot()
	t := L.NewTable()
	t.RawSetString("mode", lua.LNumber(v.Mode))
	t.RawSetString("power", lua.LBool(v.PowerOn))
	t.RawSetString("speed", lua.LNumber(v.Speed))
	t.RawSetString("brightness", lua.LNumber(v.RainbowBrightness))
	t.RawSetString("battery", lua.LNumber(v.BatteryPercent))
	t.RawSetString("color", colorTable(L, v.Primary))
	t.RawSetString("secondary", colorTable(L, v.Secondary))
	L.Push(t)
	return 1
}

func colorTable(L *lua.LState, c core.Color) *lua.LTable {
	t := L.NewTable()
	for _, v := range c {
		t.Append(lua.LNumber(v))
	}
	return t
}

func (e *Engine) luaPrint(L *lua.LState) int {
	e.logger.Info().Str("source", "lua").Msg(L.ToString(1))
	return 0
}

// luaSleep sleeps for the given milliseconds, waking early on cancellation.
func luaSleep(L *lua.LState, ctx context.Context) int {
	d := time.Duration(L.CheckInt(1)) * time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return 0
}
