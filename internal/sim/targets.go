package sim

import (
	"errors"

	"github.com/framestep/tasbridge/internal/commands"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

func (s *Simulation) registerTargets() error {
	fields := map[string]commands.Field{
		"Player.Position": {
			Kind: commands.KindVector2,
			Get:  func() any { return s.player.Position },
			Set: func(v any) error {
				s.player.Position = v.(studioproto.Vector2)
				s.player.OnGround = s.player.Position.Y >= 0
				return nil
			},
		},
		"Player.Speed": {
			Kind: commands.KindVector2,
			Get:  func() any { return s.player.Speed },
			Set: func(v any) error {
				s.player.Speed = v.(studioproto.Vector2)
				return nil
			},
		},
		"Player.Dashes": {
			Kind: commands.KindInt,
			Get:  func() any { return s.player.Dashes },
			Set: func(v any) error {
				n := v.(int)
				if n < 0 {
					return errors.New("dashes cannot be negative")
				}
				s.player.Dashes = n
				return nil
			},
		},
		"Player.OnGround": {
			Kind: commands.KindBool,
			Get:  func() any { return s.player.OnGround },
			Set: func(v any) error {
				s.player.OnGround = v.(bool)
				return nil
			},
		},
		"Level.Name": {
			Kind: commands.KindString,
			Get:  func() any { return s.level },
			Set: func(v any) error {
				s.level = v.(string)
				return nil
			},
		},
		"Level.Gravity": {
			Kind: commands.KindFloat,
			Get:  func() any { return s.gravity },
			Set: func(v any) error {
				s.gravity = v.(float64)
				return nil
			},
		},
	}
	for name, f := range fields {
		if err := s.targets.RegisterField(name, f); err != nil {
			return err
		}
	}

	methods := map[string]commands.Method{
		"Player.Jump": {
			Call: func([]any) error {
				if !s.player.OnGround {
					return errors.New("player is airborne")
				}
				s.player.Speed.Y = jumpSpeed
				s.player.OnGround = false
				return nil
			},
		},
		"Player.Teleport": {
			Params: []commands.Kind{commands.KindVector2},
			Call: func(args []any) error {
				s.player.Position = args[0].(studioproto.Vector2)
				s.player.Speed = studioproto.Vector2{}
				s.player.OnGround = s.player.Position.Y >= 0
				return nil
			},
		},
		"Info.Watch": {
			Params: []commands.Kind{commands.KindString},
			Call: func(args []any) error {
				name := args[0].(string)
				if _, ok := s.targets.Field(name); !ok {
					return errors.New("cannot watch unknown field " + name)
				}
				s.watched = append(s.watched, name)
				return nil
			},
		},
	}
	for name, m := range methods {
		if err := s.targets.RegisterMethod(name, m); err != nil {
			return err
		}
	}
	return nil
}
