// Package validator builds declarative field checks for request and service
// input.
//
// Each rule constructor returns a Rule pairing a Check function with the
// ValidationError reported when the check fails. Apply evaluates rules in
// order and aggregates failures into ValidationErrors, which implements
// error and unwraps to any sentinel attached with Rule.Wrap:
//
//	err := validator.Apply(
//	    validator.RequiredUUID("clientId", clientID),
//	    validator.MaxLenString("reason", reason, 500).Wrap(ErrReasonTooLong),
//	)
//	if verrs := validator.ExtractValidationErrors(err); verrs != nil {
//	    // verrs.Get("reason")
//	}
//
// The package is stateless and safe for concurrent use.
package validator
