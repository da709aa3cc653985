package blockindex

const (
	// BlockValidUnknown : unused.
	BlockValidUnknown uint32 = 0

	// BlockValidHeader : parsed, version ok, hash satisfies claimed PoW,
	// timestamp not in future.
	BlockValidHeader uint32 = 1

	// BlockValidTree : all parent headers found, difficulty matches,
	// timestamp >= median previous. Implies all parents are also at least TREE.
	BlockValidTree uint32 = 2

	// BlockValidTransactions : transaction structure checked. Implies all
	// parents are at least TREE but not necessarily TRANSACTIONS.
	BlockValidTransactions uint32 = 3

	// BlockValidChain : outputs do not overspend inputs, no double spends.
	// Implies all parents are also at least CHAIN.
	BlockValidChain uint32 = 4

	// BlockValidScripts : scripts and signatures ok. Implies all parents are
	// also at least SCRIPTS.
	BlockValidScripts uint32 = 5

	// BlockValidityMask : all validity bits.
	BlockValidityMask uint32 = 0x07

	// BlockHaveData : full block available in blk*.dat.
	BlockHaveData uint32 = 8
	// BlockHaveUndo : undo data available in rev*.dat.
	BlockHaveUndo uint32 = 16

	// BlockFailed : the block itself failed validation.
	BlockFailed uint32 = 32
	// BlockFailedParent : the block descends from a failed block.
	BlockFailedParent uint32 = 64
	// BlockInvalidMask : mask used to check if the block failed.
	BlockInvalidMask = BlockFailed | BlockFailedParent
)
