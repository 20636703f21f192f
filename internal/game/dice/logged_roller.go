package dice

import "go.uber.org/zap"

// Roller rolls parsed terms against a Source and records each roll at debug
// level.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Roll rolls expr. Discarded dice of a keep-highest or keep-lowest term are
// logged alongside the kept ones.
func (r *Roller) Roll(expr Expression) (RollResult, error) {
	res, err := Roll(expr, r.src)
	if err != nil {
		return RollResult{}, err
	}
	fields := []zap.Field{
		zap.String("expression", res.Expression),
		zap.Ints("kept", res.Dice),
		zap.Int("modifier", res.Modifier),
		zap.Int("total", res.Total()),
	}
	if res.Keep != KeepAll {
		fields = append(fields,
			zap.String("keep", res.Keep.String()),
			zap.Ints("rolled", res.Rolled),
		)
	}
	r.logger.Debug("dice roll", fields...)
	return res, nil
}

// RollExpr parses expr and rolls it.
func (r *Roller) RollExpr(expr string) (RollResult, error) {
	e, err := Parse(expr)
	if err != nil {
		return RollResult{}, err
	}
	return r.Roll(e)
}
