package logging

// Convenience helpers so call sites stay one-liners.

// Boot logs to the boot category at info level.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Corpus logs to the corpus category at info level.
func Corpus(format string, args ...interface{}) { Get(CategoryCorpus).Info(format, args...) }

// CorpusWarn logs to the corpus category at warn level.
func CorpusWarn(format string, args ...interface{}) { Get(CategoryCorpus).Warn(format, args...) }

// Indexer logs to the indexer category at info level.
func Indexer(format string, args ...interface{}) { Get(CategoryIndexer).Info(format, args...) }

// Capsule logs to the capsule category at info level.
func Capsule(format string, args ...interface{}) { Get(CategoryCapsule).Info(format, args...) }

// CapsuleError logs to the capsule category at error level.
func CapsuleError(format string, args ...interface{}) { Get(CategoryCapsule).Error(format, args...) }

// Retrieval logs to the retrieval category at info level.
func Retrieval(format string, args ...interface{}) { Get(CategoryRetrieval).Info(format, args...) }

// Validation logs to the validation category at info level.
func Validation(format string, args ...interface{}) { Get(CategoryValidation).Info(format, args...) }

// Session logs to the session category at info level.
func Session(format string, args ...interface{}) { Get(CategorySession).Info(format, args...) }

// LTM logs to the ltm category at info level.
func LTM(format string, args ...interface{}) { Get(CategoryLTM).Info(format, args...) }

// LTMWarn logs to the ltm category at warn level.
func LTMWarn(format string, args ...interface{}) { Get(CategoryLTM).Warn(format, args...) }
