package errors

import "fmt"

// Error code constants. Log lines and record errors always carry the code.

// Identity error codes.
const (
	CodeDuplicateWell = "DUPLICATE_WELL"
	CodePlateExists   = "PLATE_ALREADY_EXISTS"
	CodeBatchExists   = "BATCH_ALREADY_EXISTS"
)

// Lookup error codes.
const (
	CodePlateNotFound       = "PLATE_NOT_FOUND"
	CodeWellNotFound        = "WELL_NOT_FOUND"
	CodeBatchNotFound       = "BATCH_NOT_FOUND"
	CodeSampleNotFound      = "SAMPLE_NOT_FOUND"
	CodeMappingNotFound     = "MAPPING_NOT_FOUND"
	CodeUnknownSourcePlate  = "UNKNOWN_SOURCE_PLATE"
	CodeUnknownSourceWell   = "UNKNOWN_SOURCE_WELL"
	CodeStagedFileNotFound  = "STAGED_FILE_NOT_FOUND"
	CodeInvalidWellLabel    = "INVALID_WELL_LABEL"
	CodeInvalidRecord       = "INVALID_RECORD"
	CodeMissingHeader       = "MISSING_HEADER"
	CodeInvalidPodPosition  = "INVALID_POD_POSITION"
	CodeInvalidAttribute    = "INVALID_ATTRIBUTE"
	CodePlateInUse          = "PLATE_IN_USE"
	CodeBatchBusy           = "BATCH_BUSY"
	CodeInternal            = "INTERNAL_ERROR"
	CodePersistenceConflict = "PERSISTENCE_CONFLICT"
)

// Allocation and admission error codes.
const (
	CodePodsExhausted       = "PODS_EXHAUSTED"
	CodeDestinationConflict = "DESTINATION_CONFLICT"
	CodeUnusableSource      = "UNUSABLE_SOURCE"
	CodeInsufficientVolume  = "INSUFFICIENT_VOLUME"
	CodeAlreadyComplete     = "ALREADY_COMPLETE"
)

// Convenience constructors using predefined codes.

// ErrDuplicateWellf reports a second well at an occupied plate position.
func ErrDuplicateWellf(plateID, label string) *AppError {
	return AlreadyExists(CodeDuplicateWell, fmt.Sprintf("well %s already exists on plate %s", label, plateID)).
		WithParams(map[string]interface{}{"plate_id": plateID, "well": label})
}

// ErrPlateNotFoundf reports an unknown plate.
func ErrPlateNotFoundf(plateID string) *AppError {
	return NotFound(CodePlateNotFound, fmt.Sprintf("plate %s not found", plateID)).
		WithParams(map[string]interface{}{"plate_id": plateID})
}

// ErrWellNotFoundf reports an unknown well.
func ErrWellNotFoundf(plateID, label string) *AppError {
	return NotFound(CodeWellNotFound, fmt.Sprintf("well %s not found on plate %s", label, plateID)).
		WithParams(map[string]interface{}{"plate_id": plateID, "well": label})
}

// ErrBatchNotFoundf reports an unknown batch.
func ErrBatchNotFoundf(batchID string) *AppError {
	return NotFound(CodeBatchNotFound, fmt.Sprintf("batch %s not found", batchID)).
		WithParams(map[string]interface{}{"batch_id": batchID})
}

// ErrUnknownSourcePlatef reports a transfer from a plate that was never loaded.
func ErrUnknownSourcePlatef(plateID string) *AppError {
	return NotFound(CodeUnknownSourcePlate, fmt.Sprintf("source plate %s does not exist", plateID)).
		WithParams(map[string]interface{}{"plate_id": plateID})
}

// ErrUnknownSourceWellf reports a transfer from a well that was never loaded.
func ErrUnknownSourceWellf(plateID, label string) *AppError {
	return NotFound(CodeUnknownSourceWell, fmt.Sprintf("source well %s does not exist on plate %s", label, plateID)).
		WithParams(map[string]interface{}{"plate_id": plateID, "well": label})
}

// ErrInvalidWellLabelf reports a malformed or out-of-range well label.
func ErrInvalidWellLabelf(label string) *AppError {
	return Invalid(CodeInvalidWellLabel, fmt.Sprintf("invalid well label %q", label)).
		WithParams(map[string]interface{}{"well": label})
}

// ErrPodsExhaustedf reports that no pod is free for a plate in a batch.
func ErrPodsExhaustedf(plateID, batchID string) *AppError {
	return Exhausted(CodePodsExhausted, fmt.Sprintf("no free pod for plate %s in batch %s", plateID, batchID)).
		WithParams(map[string]interface{}{"plate_id": plateID, "batch_id": batchID})
}

// ErrDestinationConflictf reports a destination well that already has a provider.
func ErrDestinationConflictf(destination, provider string) *AppError {
	return Conflict(CodeDestinationConflict, fmt.Sprintf("destination %s already provided by %s", destination, provider)).
		WithParams(map[string]interface{}{"destination": destination, "provider": provider})
}

// ErrUnusableSourcef reports a provider well whose sample is not Good.
func ErrUnusableSourcef(provider, status string) *AppError {
	return Rejected(CodeUnusableSource, fmt.Sprintf("source %s is not usable (status %s)", provider, status)).
		WithParams(map[string]interface{}{"provider": provider, "status": status})
}

// ErrInsufficientVolumef reports a transfer that would overdraw its provider.
func ErrInsufficientVolumef(provider, available, claimed, requested string) *AppError {
	return Rejected(CodeInsufficientVolume,
		fmt.Sprintf("source %s has %s, %s already claimed, %s requested", provider, available, claimed, requested)).
		WithParams(map[string]interface{}{
			"provider":  provider,
			"available": available,
			"claimed":   claimed,
			"requested": requested,
		})
}

// ErrAlreadyCompletef reports a batch that has already been finalized.
func ErrAlreadyCompletef(batchID string) *AppError {
	return Conflict(CodeAlreadyComplete, fmt.Sprintf("batch %s is already complete", batchID)).
		WithParams(map[string]interface{}{"batch_id": batchID})
}

// ErrBatchBusyf reports a batch lock that could not be acquired.
func ErrBatchBusyf(batchID string) *AppError {
	return Conflict(CodeBatchBusy, fmt.Sprintf("batch %s is locked by another operation", batchID)).
		WithParams(map[string]interface{}{"batch_id": batchID})
}

// ErrInvalidRecordf reports a malformed input record.
func ErrInvalidRecordf(format string, args ...interface{}) *AppError {
	return Invalid(CodeInvalidRecord, fmt.Sprintf(format, args...))
}
