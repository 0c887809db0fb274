package engine

import "github.com/pkg/errors"

var (
	errReplaceFileWithFolder = errors.New("replacing destination file with source folder is blocked by the replace_file_with_folder policy")
	errReplaceFolderWithFile = errors.New("replacing destination folder with source file is blocked by the replace_folder_with_file policy")
	errOverwriteNewerDest    = errors.New("destination file is newer than source and overwrite_newer_dest is set to error")
	errPolicyBlocked         = errors.New("action blocked by behaviour policy")
)
